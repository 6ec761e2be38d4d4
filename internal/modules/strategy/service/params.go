package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// params: параметры стратегии после наложения пользовательских на дефолты.
type params map[string]any

func mergeParams(defaults, user map[string]any) params {
	out := make(params, len(defaults)+len(user))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range user {
		out[k] = v
	}
	return out
}

func (p params) clone() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// float читает число: yaml и json отдают int, float64 или строку.
func (p params) float(key string) (float64, error) {
	switch v := p[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, errors.Errorf("%s: not a number %q", key, v)
		}
		return f, nil
	case nil:
		return 0, errors.Errorf("%s: missing", key)
	default:
		return 0, errors.Errorf("%s: unsupported type %T", key, v)
	}
}

func (p params) int(key string) (int, error) {
	f, err := p.float(key)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, errors.Errorf("%s: must be integer, got %v", key, f)
	}
	return int(f), nil
}

func (p params) bool(key string) (bool, error) {
	switch v := p[key].(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, errors.Errorf("%s: not a bool %q", key, v)
		}
		return b, nil
	case nil:
		return false, errors.Errorf("%s: missing", key)
	default:
		return false, errors.Errorf("%s: unsupported type %T", key, v)
	}
}

func (p params) string(key string) (string, error) {
	switch v := p[key].(type) {
	case string:
		return v, nil
	case nil:
		return "", errors.Errorf("%s: missing", key)
	default:
		return "", errors.Errorf("%s: unsupported type %T", key, v)
	}
}

// duration: строка "2s" или число секунд.
func (p params) duration(key string) (time.Duration, error) {
	if s, ok := p[key].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, errors.Errorf("%s: bad duration %q", key, s)
		}
		return d, nil
	}
	f, err := p.float(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// reader копит ошибки чтения, чтобы валидация вернула их все.
type reader struct {
	p    params
	errs []string
}

func (r *reader) float(key string) float64 {
	v, err := r.p.float(key)
	if err != nil {
		r.errs = append(r.errs, err.Error())
	}
	return v
}

func (r *reader) int(key string) int {
	v, err := r.p.int(key)
	if err != nil {
		r.errs = append(r.errs, err.Error())
	}
	return v
}

func (r *reader) bool(key string) bool {
	v, err := r.p.bool(key)
	if err != nil {
		r.errs = append(r.errs, err.Error())
	}
	return v
}

func (r *reader) string(key string) string {
	v, err := r.p.string(key)
	if err != nil {
		r.errs = append(r.errs, err.Error())
	}
	return v
}

func (r *reader) duration(key string) time.Duration {
	v, err := r.p.duration(key)
	if err != nil {
		r.errs = append(r.errs, err.Error())
	}
	return v
}

func (r *reader) check(ok bool, format string, args ...any) {
	if !ok {
		r.errs = append(r.errs, fmt.Sprintf(format, args...))
	}
}
