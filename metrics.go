/*
Copyright © 2020 the DivClean authors.
This file is part of DivClean.

DivClean is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

DivClean is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with DivClean.  If not, see <http://www.gnu.org/licenses/>.
*/

package divclean

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "divclean_step_duration_seconds",
		Help:    "Wall clock time taken by one timestep.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	diagnosticValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "divclean_diagnostic_value",
		Help: "Most recent value of a reduced diagnostic, by name.",
	}, []string{"name"})
)

// ObserveDiagnostic records the most recent value of a named diagnostic.
func ObserveDiagnostic(name string, v float64) {
	diagnosticValue.WithLabelValues(name).Set(v)
}
