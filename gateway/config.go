package gateway

import (
	"time"

	"github.com/rkjdid/util"

	"github.com/solar3s/rfnode/pulse"
	"github.com/solar3s/rfnode/rfstate"
	"github.com/solar3s/rfnode/task"
)

type Config struct {
	Headers       rfstate.Headers
	Relays        []uint16      // node ids of relays, switched through RxTxState
	Sensors       []uint16      // node ids of sensors, mirrored through RxState
	Tick          util.Duration // pulse timer resolution of the bridge
	PulsesPerPoll int           // raw pulses decoded per loop pass
	HistorySize   int           // events kept for snapshots
	MaxSleep      util.Duration // longest loop sleep without a deadline
}

var DefaultConfig = Config{
	Headers:       rfstate.DefaultHeaders,
	Tick:          util.Duration(pulse.DefaultTiming.Tick),
	PulsesPerPoll: 32,
	HistorySize:   64,
	MaxSleep:      util.Duration(task.DefaultMaxSleep),
}

type WatcherConfig struct {
	ConnPollRate util.Duration
}

var DefaultWatcherConfig = WatcherConfig{
	ConnPollRate: util.Duration(time.Second),
}
