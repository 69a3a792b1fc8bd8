package engine

import (
	"time"

	"github.com/haasonsaas/agentengine/internal/audit"
	"github.com/haasonsaas/agentengine/internal/cache"
	"github.com/haasonsaas/agentengine/internal/intentsig"
	"github.com/haasonsaas/agentengine/internal/schema"
	"github.com/haasonsaas/agentengine/pkg/models"
)

// IngestionOutcome is the §4.11 result Phase 1 hands to the facade.
type IngestionOutcome struct {
	Result         models.PhaseResult // CONTINUE | CACHE_HIT | ERROR
	Job            models.Job
	Signature      string
	CachedResponse models.Response
	Error          *models.EngineError
}

// Ingestion implements C16: schema validation, signing, and the cache
// lookup that decides whether the pipeline short-circuits.
type Ingestion struct {
	cache cache.Cache
	audit *audit.Logger
}

// NewIngestion builds an Ingestion phase over the given result cache and
// audit sink.
func NewIngestion(resultCache cache.Cache, auditLog *audit.Logger) *Ingestion {
	return &Ingestion{cache: resultCache, audit: auditLog}
}

// Run validates rawPayload, computes its signature, and looks it up in
// the result cache. A validation failure never reaches the cache; a
// cache-backend error fails open to a miss.
func (p *Ingestion) Run(rawPayload []byte) IngestionOutcome {
	job, fieldErrs, err := schema.ValidateJob(rawPayload)
	if err != nil {
		return IngestionOutcome{
			Result: models.PhaseError,
			Error:  &models.EngineError{Code: "PHASE1_VALIDATION_FAILED", Message: err.Error()},
		}
	}
	if len(fieldErrs) > 0 {
		return IngestionOutcome{
			Result: models.PhaseError,
			Error: &models.EngineError{
				Code:    "PHASE1_VALIDATION_FAILED",
				Message: fieldErrs.Error(),
				Details: map[string]any{"fields": fieldErrs},
			},
		}
	}

	p.log(job, "VALIDATION_SUCCESS", nil)

	signature := intentsig.Compute(job)
	p.log(job, "SIGNATURE_CALCULATED", map[string]any{
		"signature": signature,
		"short":     intentsig.Short(signature),
	})

	lookup, err := p.cache.Lookup(signature, job.UserID)
	if err != nil {
		p.log(job, "CACHE_ERROR", map[string]any{"error": err.Error()})
		lookup = cache.LookupResult{Hit: false}
	}

	if lookup.Hit {
		p.log(job, "CACHE_HIT", map[string]any{"ageSeconds": lookup.Age.Seconds()})
		return IngestionOutcome{
			Result:         models.PhaseCacheHit,
			Job:            job,
			Signature:      signature,
			CachedResponse: lookup.Response,
		}
	}

	p.log(job, "CACHE_MISS", nil)
	return IngestionOutcome{Result: models.PhaseContinue, Job: job, Signature: signature}
}

func (p *Ingestion) log(job models.Job, event string, details map[string]any) {
	if p.audit == nil {
		return
	}
	p.audit.Log(models.AuditEvent{
		CorrelationID: job.CorrelationID,
		UserID:        job.UserID,
		Timestamp:     time.Now(),
		Phase:         models.AuditPhaseIngestion,
		Event:         event,
		Details:       details,
	})
}
