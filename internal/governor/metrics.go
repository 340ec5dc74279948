package governor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayward_governed_operations_total",
		Help: "Governed operations by entity, verb and outcome.",
	}, []string{"entity", "verb", "outcome"})

	auditAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayward_audit_appends_total",
		Help: "Audit ledger appends attempted by the governor, by result.",
	}, []string{"result"})

	lockRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayward_lock_rejections_total",
		Help: "Mutations rejected because the record was locked, by entity.",
	}, []string{"entity"})
)
