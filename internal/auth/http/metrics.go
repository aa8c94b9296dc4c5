package http

import (
	"net/http"

	"github.com/aussiebroadwan/tokend/pkg/authsdk"
	"github.com/aussiebroadwan/tokend/pkg/httpx"
	"github.com/aussiebroadwan/tokend/pkg/slogx"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricsHandler godoc
//
//	@Summary		Service counters
//	@Description	Returns a snapshot of the token counters (issued, refreshed, rejected, reuse detected, key rotations).
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.MetricsResponse
//	@Failure		401	{object}	authsdk.ErrorResponse	"Unauthorized"
//	@Failure		403	{object}	authsdk.ErrorResponse	"Forbidden - requires keys:admin scope"
//	@Security		BearerAuth
//	@Router			/v1/metrics [get]
func MetricsHandler(reader sdkmetric.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(r.Context(), &rm); err != nil {
			slogx.FromContext(r.Context()).Error("metrics_collect_failed", "error", err)
			authsdk.ErrServerError.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, snapshot(rm))
	}
}

// snapshot flattens the int64 sums; the service records nothing else.
func snapshot(rm metricdata.ResourceMetrics) authsdk.MetricsResponse {
	out := authsdk.MetricsResponse{Counters: map[string][]authsdk.MetricPoint{}}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			points := make([]authsdk.MetricPoint, 0, len(sum.DataPoints))
			for _, dp := range sum.DataPoints {
				p := authsdk.MetricPoint{Value: dp.Value}
				if dp.Attributes.Len() > 0 {
					p.Attributes = make(map[string]string, dp.Attributes.Len())
					for _, kv := range dp.Attributes.ToSlice() {
						p.Attributes[string(kv.Key)] = kv.Value.Emit()
					}
				}
				points = append(points, p)
			}
			out.Counters[m.Name] = points
		}
	}
	return out
}
