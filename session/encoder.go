package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	snapshotFormatVersionCurrent = 1
)

// CurrentFormatVersion is the version byte written by Encode.
const CurrentFormatVersion = snapshotFormatVersionCurrent

type wireValue struct {
	Kind Kind     `cbor:"1,keyasint"`
	Str  string   `cbor:"2,keyasint,omitempty"`
	Num  int64    `cbor:"3,keyasint,omitempty"`
	Flt  float64  `cbor:"4,keyasint,omitempty"`
	Raw  []byte   `cbor:"5,keyasint,omitempty"`
	List []string `cbor:"6,keyasint,omitempty"`
}

type wireSnapshot struct {
	Attributes   map[string]wireValue `cbor:"1,keyasint,omitempty"`
	CreatedAt    int64                `cbor:"2,keyasint"`
	LastAccessed int64                `cbor:"3,keyasint"`
	MaxInactive  int64                `cbor:"4,keyasint"`
	New          bool                 `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Deterministic output keeps identical snapshots byte-identical, which WATCH-based
	// transactions and tests rely on.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  8,
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes a snapshot as a version byte followed by a CBOR body.
func Encode(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil snapshot")
	}

	w := wireSnapshot{
		CreatedAt:    s.CreatedAt.UnixNano(),
		LastAccessed: s.LastAccessedAt.UnixNano(),
		MaxInactive:  int64(s.MaxInactive),
		New:          s.New,
	}
	if len(s.Attributes) > 0 {
		w.Attributes = make(map[string]wireValue, len(s.Attributes))
		for k, v := range s.Attributes {
			if !v.IsValid() {
				return nil, fmt.Errorf("attribute %q: %w", k, ErrInvalidValue)
			}
			w.Attributes[k] = wireValue{
				Kind: v.kind,
				Str:  v.str,
				Num:  v.num,
				Flt:  v.flt,
				Raw:  v.raw,
				List: v.list,
			}
		}
	}

	body, err := encMode.Marshal(w)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, snapshotFormatVersionCurrent)
	return append(out, body...), nil
}

// Decode parses a blob written by Encode. Unknown versions and malformed bodies wrap
// ErrCorrupt.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrCorrupt)
	}

	version := data[0]
	if version != snapshotFormatVersionCurrent {
		return nil, fmt.Errorf("%w: unsupported session schema version %d", ErrCorrupt, version)
	}

	var w wireSnapshot
	if err := decMode.Unmarshal(data[1:], &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	s := &Snapshot{
		Attributes:     make(map[string]Value, len(w.Attributes)),
		CreatedAt:      time.Unix(0, w.CreatedAt),
		LastAccessedAt: time.Unix(0, w.LastAccessed),
		MaxInactive:    time.Duration(w.MaxInactive),
		New:            w.New,
	}
	for k, wv := range w.Attributes {
		v := Value{
			kind: wv.Kind,
			str:  wv.Str,
			num:  wv.Num,
			flt:  wv.Flt,
			raw:  wv.Raw,
			list: wv.List,
		}
		if !v.IsValid() {
			return nil, fmt.Errorf("%w: attribute %q has kind %s", ErrCorrupt, k, wv.Kind)
		}
		s.Attributes[k] = v
	}

	return s, nil
}
