package web

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rkjdid/util"
	"go.uber.org/zap"

	"github.com/solar3s/rfnode/gateway"
)

// EventLog is an archived slice of the event history, written as a TOML
// file in ServerConfig.LogDir.
type EventLog struct {
	Device string
	Note   string
	Start  time.Time
	End    time.Time
	Events []gateway.Event
}

func NewEventLog(device, note string, events []gateway.Event) EventLog {
	l := EventLog{Device: device, Note: note, Events: events}
	if len(events) > 0 {
		l.Start = events[0].Time
		l.End = events[len(events)-1].Time
	}
	return l
}

func (l EventLog) Info() EventLogInfo {
	return EventLogInfo{
		Device: l.Device,
		Note:   l.Note,
		Start:  l.Start,
		End:    l.End,
		Count:  len(l.Events),
	}
}

func (l EventLog) FileName() string {
	return l.Info().FileName()
}

// EventLogInfo describes an EventLog without its events.
type EventLogInfo struct {
	Device string    `json:"device"`
	Note   string    `json:"note,omitempty"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Count  int       `json:"count"`
	Path   string    `json:"path"`
}

func (i EventLogInfo) FileName() string {
	dev := "none"
	if i.Device != "" {
		dev = filepath.Base(i.Device)
	}
	return fmt.Sprintf("events_%s_%s.log", dev, i.End.Format("2006-01-02_15h04m05"))
}

// SaveEventLog writes l into dir and returns the file name.
func SaveEventLog(dir string, l EventLog) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := l.FileName()
	return name, util.WriteTomlFile(l, filepath.Join(dir, name))
}

// ListEventLogs describes every readable log in dir, oldest first.
func ListEventLogs(dir string, log *zap.Logger) ([]EventLogInfo, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var infos []EventLogInfo
	for _, fi := range files {
		if fi.IsDir() {
			continue
		}
		var l EventLog
		if err := util.ReadTomlFile(&l, filepath.Join(dir, fi.Name())); err != nil {
			log.Warn("error parsing event log", zap.String("file", fi.Name()), zap.Error(err))
			continue
		}
		info := l.Info()
		info.Path = fi.Name()
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].End.Before(infos[j].End) })
	return infos, nil
}
