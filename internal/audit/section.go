package audit

import "github.com/rs/zerolog"

// section collects the non-empty fields of a nested object of the entry. A
// section with no fields is left out of the log line entirely.
type section struct {
	dict *zerolog.Event
}

func (s *section) fields() *zerolog.Event {
	if s.dict == nil {
		s.dict = zerolog.Dict()
	}
	return s.dict
}

func (s *section) str(key, val string) *section {
	if val != "" {
		s.fields().Str(key, val)
	}
	return s
}

func (s *section) num(key string, val int) *section {
	if val != 0 {
		s.fields().Int(key, val)
	}
	return s
}

// writeTo adds the section to parent under key.
func (s *section) writeTo(parent *zerolog.Event, key string) {
	if s.dict != nil {
		parent.Dict(key, s.dict)
	}
}
