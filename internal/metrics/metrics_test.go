package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goregress/domain/regression"
)

func TestObserveFit(t *testing.T) {
	r := NewRecorder()
	r.ObserveFit(regression.StageUnivariate, "", 10*time.Millisecond)
	r.ObserveFit(regression.StageUnivariate, regression.SkipModelFit, -time.Second)
	r.ObserveFit(regression.StageMultivariate, OutcomeOK, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.fitsTotal.WithLabelValues("univariate", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fitsTotal.WithLabelValues("univariate", regression.SkipModelFit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fitsTotal.WithLabelValues("multivariate", OutcomeOK)))
	assert.Equal(t, 2, testutil.CollectAndCount(r.fitDuration))
}

func TestObserveSelectionAndRuns(t *testing.T) {
	r := NewRecorder()
	r.ObserveSelection(7)
	r.ObserveSelection(3)
	r.ObserveRun(false)
	r.ObserveRun(true)
	r.ObserveRun(false)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.selectedElements))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsTotal.WithLabelValues(RunCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues(RunFailed)))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveFit(regression.StageUnivariate, OutcomeOK, time.Millisecond)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `regress_fits_total{outcome="ok",stage="univariate"} 1`)
}

func TestHandler(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Register(collectors.NewGoCollector()))
	require.NoError(t, r.Register(collectors.NewGoCollector()), "duplicate registration is ignored")
	r.ObserveSelection(2)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "regress_selected_elements 2")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
