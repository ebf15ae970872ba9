package stream

// Branch is one alternative tried by Scan. It reads from src and reports
// the outcome; Scan wraps every attempt in a read transaction.
type Branch func(src Source) Status

// Match is a Branch that accepts the literal lit.
func Match(lit string) Branch {
	return func(src Source) Status { return matchLiteral(src, lit) }
}

// Into is a Branch decoding one value of c into v.
func Into[T any](c Codec[T], v *T) Branch {
	return func(src Source) Status { return c.Read(src, v) }
}

// Scan tries branches in order at the current read position and returns
// the index of the first one that parses.
//
// A branch that is still Partial blocks the branches after it, so a later
// shorter literal does not win while an earlier longer one may still
// match. When every branch is Invalid, one byte is dropped and the scan
// restarts. Otherwise nothing is consumed and the strongest pending
// outcome is returned with index -1: Partial, then Incomplete.
func Scan(src Source, branches ...Branch) (int, Status) {
	for {
		pending := Invalid
		for i, b := range branches {
			src.ReadStart()
			st := b(src)
			if st == Valid && pending != Partial {
				src.ReadEnd()
				return i, Valid
			}
			src.ReadAbort()
			switch {
			case st == Partial:
				pending = Partial
			case st == Incomplete && pending == Invalid:
				pending = Incomplete
			}
		}
		if pending != Invalid {
			return -1, pending
		}
		if _, ok := src.Read(); !ok {
			return -1, Incomplete
		}
	}
}
