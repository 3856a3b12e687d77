package observability

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor when it has the same type.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		var zero C
		return zero, err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		var zero C
		return zero, fmt.Errorf("metric already registered as %T, want %T", are.ExistingCollector, c)
	}
	return existing, nil
}
