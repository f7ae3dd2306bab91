package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/session"
)

// Attribute reads key from s as T. ok reports whether the key is set; err is
// ErrTypeMismatch (wrapped with both kinds) when it holds a value of another kind.
//
//	uid, ok, err := goSession.Attribute[int64](m, s, "user_id")
func Attribute[T session.Scalar](m *Manager, s *session.Session, key string) (T, bool, error) {
	var zero T

	v, ok := m.GetAttribute(s, key)
	if !ok {
		return zero, false, nil
	}

	out, err := session.As[T](v)
	if err != nil {
		m.metricInc(MetricTypeMismatch)
		return zero, true, err
	}
	return out, true, nil
}

// SetAttributeOf is SetAttribute for plain Go values.
func SetAttributeOf[T session.Scalar](ctx context.Context, m *Manager, s *session.Session, key string, x T) error {
	return m.SetAttribute(ctx, s, key, session.ValueOf(x))
}
