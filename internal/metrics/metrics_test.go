package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	assert.Equal(t, ResultOK, Result(nil))
	assert.Equal(t, ResultError, Result(errors.New("x")))
}

func TestObserveWidgetLoad(t *testing.T) {
	before := testutil.ToFloat64(WidgetLoads.WithLabelValues("metrics-test", ResultError))
	ObserveWidgetLoad("metrics-test", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(WidgetLoads.WithLabelValues("metrics-test", ResultError))
	assert.Equal(t, before+1, after)
}
