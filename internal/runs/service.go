package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"runflow/backend/internal/friendlyid"
)

// DefaultPayloadOffloadThreshold is the inline payload ceiling in bytes when
// no threshold is configured.
const DefaultPayloadOffloadThreshold = 512 * 1024

// devEnvironmentDefaultTTL expires unstarted development runs that pile up
// while nothing is connected.
const devEnvironmentDefaultTTL = "10m"

// Counter assigns the per-(environment, task) run numbers. Implemented by
// AutoIncrementCounter; an interface so unit tests can run without Postgres.
type Counter interface {
	IncrementInTransaction(ctx context.Context, key string, work CounterWorkFunc, deriveInitial DeriveInitialFunc) error
}

// Service is the run trigger pipeline.
type Service interface {
	TriggerTask(ctx context.Context, taskID string, env *RuntimeEnvironment, body *TriggerTaskRequestBody, opts *TriggerTaskOptions) (*TaskRun, error)
}

// ServiceOptions wires the pipeline's collaborators.
type ServiceOptions struct {
	Repository              Repository
	Counter                 Counter
	Engine                  Engine
	Entitlements            EntitlementClient
	ObjectStore             ObjectStore
	TraceEvents             TraceEventRepository
	Logger                  *slog.Logger
	PayloadOffloadThreshold int
}

type service struct {
	repo             Repository
	counter          Counter
	engine           Engine
	entitlements     EntitlementClient
	objectStore      ObjectStore
	traceEvents      TraceEventRepository
	logger           *slog.Logger
	offloadThreshold int
}

// NewService creates the trigger pipeline service.
func NewService(opts ServiceOptions) Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PayloadOffloadThreshold <= 0 {
		opts.PayloadOffloadThreshold = DefaultPayloadOffloadThreshold
	}
	return &service{
		repo:             opts.Repository,
		counter:          opts.Counter,
		engine:           opts.Engine,
		entitlements:     opts.Entitlements,
		objectStore:      opts.ObjectStore,
		traceEvents:      opts.TraceEvents,
		logger:           opts.Logger,
		offloadThreshold: opts.PayloadOffloadThreshold,
	}
}

// normalizedRequest is the canonical form of a trigger request after C1.
type normalizedRequest struct {
	idempotencyKey string
	ttl            *string
	tags           []string
	customIcon     string
	isTest         bool
	payloadType    string
	metadataType   string
}

// TriggerTask validates a trigger request, deduplicates it, persists a
// TaskRun under a fresh per-(environment, task) number and hands it to the
// execution engine. Everything before the counter envelope is read-only.
func (s *service) TriggerTask(ctx context.Context, taskID string, env *RuntimeEnvironment, body *TriggerTaskRequestBody, opts *TriggerTaskOptions) (*TaskRun, error) {
	if body == nil {
		body = &TriggerTaskRequestBody{}
	}
	if body.Options == nil {
		body.Options = &TriggerTaskRequestOptions{}
	}
	if opts == nil {
		opts = &TriggerTaskOptions{}
	}

	logger := s.logger.With(
		"operation", "trigger_task",
		"task_identifier", taskID,
		"environment_id", uuidString(env.ID),
	)

	req, err := s.normalizeRequest(env, body, opts)
	if err != nil {
		logger.Error("Invalid trigger request", "error", err)
		return nil, err
	}

	// Idempotency gate.
	if req.idempotencyKey != "" {
		existing, err := s.repo.FindRunByIdempotencyKey(ctx, env.ID, taskID, req.idempotencyKey)
		if err == nil {
			logger.Info("Returning existing run for idempotency key",
				"run_id", existing.FriendlyID, "idempotency_key", req.idempotencyKey)
			runsDeduplicated.Inc()
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(attribute.String("run_id", existing.FriendlyID))
			return existing, nil
		}
		if !errors.Is(err, ErrTaskRunNotFound) {
			return nil, fmt.Errorf("idempotency lookup failed: %w", err)
		}
	}

	// Entitlement check, skipped for development environments.
	if env.Type != EnvironmentTypeDevelopment && s.entitlements != nil {
		result, err := s.entitlements.Get(ctx, env.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("entitlement check failed: %w", err)
		}
		if result != nil && !result.HasAccess {
			logger.Info("Organization out of entitlement", "organization_id", uuidString(env.OrganizationID))
			runsOutOfEntitlement.Inc()
			return nil, &OutOfEntitlementError{}
		}
	}

	deps, err := s.resolveDependencies(ctx, taskID, body.Options)
	if err != nil {
		logger.Error("Failed to resolve dependencies", "error", err)
		return nil, err
	}

	runFriendlyID := friendlyid.Run()

	payloadPacket, err := s.handlePayloadPacket(ctx, env, runFriendlyID, body.Payload, req.payloadType)
	if err != nil {
		return nil, err
	}

	metadataPacket, err := HandleMetadataPacket(body.Options.Metadata, req.metadataType)
	if err != nil {
		return nil, NewValidationError("invalid metadata: %v", err)
	}

	delayUntil := ParseDelay(body.Options.Delay)

	queueName, err := s.resolveQueueName(ctx, taskID, env, body.Options.Queue)
	if err != nil {
		return nil, err
	}

	run, err := s.createRun(ctx, taskID, env, body, opts, req, deps, runFriendlyID, payloadPacket, metadataPacket, delayUntil, queueName)
	if err != nil {
		// Two racing requests with the same idempotency key can both pass the
		// gate; the unique constraint is the backstop. Return the winner.
		if IsUniqueViolation(err) && req.idempotencyKey != "" {
			existing, findErr := s.repo.FindRunByIdempotencyKey(ctx, env.ID, taskID, req.idempotencyKey)
			if findErr == nil {
				logger.Info("Returning existing run after idempotency race",
					"run_id", existing.FriendlyID, "idempotency_key", req.idempotencyKey)
				runsDeduplicated.Inc()
				return existing, nil
			}
		}
		logger.Error("Failed to trigger task", "error", err)
		return nil, err
	}

	logger.Info("Task triggered", "run_id", run.FriendlyID, "run_number", run.Number, "queue", run.QueueName)
	runsTriggered.WithLabelValues(string(env.Type)).Inc()

	return run, nil
}

// normalizeRequest canonicalizes options per C1.
func (s *service) normalizeRequest(env *RuntimeEnvironment, body *TriggerTaskRequestBody, opts *TriggerTaskOptions) (*normalizedRequest, error) {
	req := &normalizedRequest{
		idempotencyKey: opts.IdempotencyKey,
		customIcon:     opts.CustomIcon,
		isTest:         opts.Test,
		payloadType:    body.Options.PayloadType,
		metadataType:   body.Options.MetadataType,
	}

	if req.idempotencyKey == "" {
		req.idempotencyKey = body.Options.IdempotencyKey
	}
	if req.customIcon == "" {
		req.customIcon = "task"
	}
	if !req.isTest && body.Options.Test != nil {
		req.isTest = *body.Options.Test
	}
	if req.payloadType == "" {
		req.payloadType = PacketTypeJSON
	}
	if req.metadataType == "" {
		req.metadataType = PacketTypeJSON
	}

	ttl, err := normalizeTTL(body.Options.TTL)
	if err != nil {
		return nil, err
	}
	if ttl == nil && env.Type == EnvironmentTypeDevelopment {
		defaultTTL := devEnvironmentDefaultTTL
		ttl = &defaultTTL
	}
	req.ttl = ttl

	tags, err := normalizeTags(body.Options.Tags)
	if err != nil {
		return nil, err
	}
	req.tags = tags

	return req, nil
}

func normalizeTTL(value any) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return &v, nil
	case float64:
		return StringifyDuration(int64(v)), nil
	case int:
		return StringifyDuration(int64(v)), nil
	case int64:
		return StringifyDuration(v), nil
	default:
		return nil, NewValidationError("ttl must be a number of seconds or a duration string")
	}
}

func normalizeTags(value any) ([]string, error) {
	var tags []string
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		tags = []string{v}
	case []string:
		tags = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, NewValidationError("tags must be strings")
			}
			tags = append(tags, s)
		}
	default:
		return nil, NewValidationError("tags must be a string or an array of strings")
	}

	if len(tags) > MaxTagsPerRun {
		return nil, NewValidationError("runs can only have %d tags, you are trying to set %d", MaxTagsPerRun, len(tags))
	}
	return tags, nil
}

// resolvedDependencies is the outcome of C4.
type resolvedDependencies struct {
	dependentAttempt *TaskRunAttempt
	parentAttempt    *TaskRunAttempt
	dependentBatch   *BatchTaskRun
	parentBatch      *BatchTaskRun
}

// depth derives the run's depth from whichever dependency is present.
func (d *resolvedDependencies) depth() int32 {
	switch {
	case d.dependentAttempt != nil && d.dependentAttempt.TaskRun != nil:
		return d.dependentAttempt.TaskRun.Depth + 1
	case d.parentAttempt != nil && d.parentAttempt.TaskRun != nil:
		return d.parentAttempt.TaskRun.Depth + 1
	case d.dependentBatch != nil && d.dependentBatch.DependentTaskAttempt != nil &&
		d.dependentBatch.DependentTaskAttempt.TaskRun != nil:
		return d.dependentBatch.DependentTaskAttempt.TaskRun.Depth + 1
	default:
		return 0
	}
}

func (d *resolvedDependencies) resumeParentOnCompletion() bool {
	return d.dependentAttempt != nil || d.dependentBatch != nil
}

func (d *resolvedDependencies) batchID() *pgtype.UUID {
	if d.dependentBatch != nil {
		return &d.dependentBatch.ID
	}
	if d.parentBatch != nil {
		return &d.parentBatch.ID
	}
	return nil
}

func (d *resolvedDependencies) batchFriendlyID() *string {
	if d.dependentBatch != nil {
		return &d.dependentBatch.FriendlyID
	}
	if d.parentBatch != nil {
		return &d.parentBatch.FriendlyID
	}
	return nil
}

// resolveDependencies loads the attempt and batch references of a request and
// gates child creation on dependents still being live. Parent references
// carry lineage only and are not gated.
func (s *service) resolveDependencies(ctx context.Context, taskID string, opts *TriggerTaskRequestOptions) (*resolvedDependencies, error) {
	deps := &resolvedDependencies{}

	if opts.DependentAttempt != "" {
		attempt, err := s.repo.FindAttemptByFriendlyID(ctx, opts.DependentAttempt)
		if err != nil {
			return nil, fmt.Errorf("failed to load dependent attempt: %w", err)
		}
		if err := gateDependentAttempt(taskID, attempt); err != nil {
			return nil, err
		}
		deps.dependentAttempt = attempt
	}

	if opts.ParentAttempt != "" {
		attempt, err := s.repo.FindAttemptByFriendlyID(ctx, opts.ParentAttempt)
		if err != nil {
			return nil, fmt.Errorf("failed to load parent attempt: %w", err)
		}
		deps.parentAttempt = attempt
	}

	if opts.DependentBatch != "" {
		batch, err := s.repo.FindBatchByFriendlyID(ctx, opts.DependentBatch)
		if err != nil {
			return nil, fmt.Errorf("failed to load dependent batch: %w", err)
		}
		if batch.DependentTaskAttempt != nil {
			if err := gateDependentAttempt(taskID, batch.DependentTaskAttempt); err != nil {
				return nil, err
			}
		}
		deps.dependentBatch = batch
	}

	if opts.ParentBatch != "" {
		batch, err := s.repo.FindBatchByFriendlyID(ctx, opts.ParentBatch)
		if err != nil {
			return nil, fmt.Errorf("failed to load parent batch: %w", err)
		}
		deps.parentBatch = batch
	}

	return deps, nil
}

// gateDependentAttempt rejects the trigger when the dependent attempt or its
// run is already terminal. The two messages stay distinct on purpose.
func gateDependentAttempt(taskID string, attempt *TaskRunAttempt) error {
	if IsFinalAttemptStatus(attempt.Status) {
		return NewValidationError(
			"cannot trigger %s as a subtask of %s: the dependent attempt is in a terminal state (%s)",
			taskID, attempt.FriendlyID, attempt.Status)
	}
	if attempt.TaskRun != nil && IsFinalRunStatus(attempt.TaskRun.Status) {
		return NewValidationError(
			"cannot trigger %s as a subtask of %s: the dependent task run is in a terminal state (%s)",
			taskID, attempt.FriendlyID, attempt.TaskRun.Status)
	}
	return nil
}

// handlePayloadPacket serializes the payload and spills it to object storage
// when it exceeds the offload threshold. The returned packet then carries the
// storage locator instead of bytes.
func (s *service) handlePayloadPacket(ctx context.Context, env *RuntimeEnvironment, runFriendlyID string, payload any, payloadType string) (IOPacket, error) {
	packet, err := CreatePayloadPacket(payload, payloadType)
	if err != nil {
		return IOPacket{}, NewValidationError("invalid payload: %v", err)
	}

	needsOffloading, size := PacketRequiresOffloading(packet, s.offloadThreshold)
	if !needsOffloading {
		return packet, nil
	}

	filename := fmt.Sprintf("%s/payload.json", runFriendlyID)
	if err := s.objectStore.Upload(ctx, filename, []byte(packet.Data), packet.DataType, env); err != nil {
		return IOPacket{}, fmt.Errorf("failed to offload payload (%d bytes): %w", size, err)
	}

	s.logger.Debug("Offloaded run payload", "run_id", runFriendlyID, "size", size)
	payloadsOffloaded.Inc()

	return IOPacket{Data: filename, DataType: PacketTypeStore}, nil
}

// resolveQueueName picks the effective queue per C6: caller input first, then
// the current worker's task queue config, then the task fallback queue.
func (s *service) resolveQueueName(ctx context.Context, taskID string, env *RuntimeEnvironment, queue *QueueOptions) (string, error) {
	if queue != nil && queue.Name != "" {
		return sanitizeQueueNameForTask(queue.Name, taskID), nil
	}

	fallback := sanitizeQueueNameForTask(DefaultQueueName(taskID), taskID)

	// Development environments have no promoted deployment.
	if env.Type == EnvironmentTypeDevelopment {
		return fallback, nil
	}

	worker, err := s.repo.FindCurrentWorker(ctx, env.ID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve current worker: %w", err)
	}
	if worker == nil {
		return fallback, nil
	}

	task, err := s.repo.FindWorkerTask(ctx, worker.ID, taskID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve worker task: %w", err)
	}
	if task == nil {
		return fallback, nil
	}

	cfg, err := parseQueueConfig(task.QueueConfig)
	if err != nil {
		s.logger.Warn("Invalid queue config on worker task, falling back",
			"task_identifier", taskID, "worker_id", uuidString(worker.ID), "error", err)
		return fallback, nil
	}
	if cfg == nil || cfg.Name == "" {
		return fallback, nil
	}

	return sanitizeQueueNameForTask(cfg.Name, taskID), nil
}

// createRun is C7: the tracing envelope around the counter envelope around
// engine.Trigger. Only this method persists anything.
func (s *service) createRun(
	ctx context.Context,
	taskID string,
	env *RuntimeEnvironment,
	body *TriggerTaskRequestBody,
	opts *TriggerTaskOptions,
	req *normalizedRequest,
	deps *resolvedDependencies,
	runFriendlyID string,
	payloadPacket IOPacket,
	metadataPacket *IOPacket,
	delayUntil *time.Time,
	queueName string,
) (*TaskRun, error) {
	var idempotencyKey *string
	if req.idempotencyKey != "" {
		idempotencyKey = &req.idempotencyKey
	}

	traceOpts := TraceEventOptions{
		Environment: env,
		TaskSlug:    taskID,
		Attributes: TraceEventAttributes{
			Properties:     map[string]any{"taskSlug": taskID},
			Style:          TraceEventStyle{Icon: req.customIcon},
			RunIsTest:      req.isTest,
			BatchID:        deps.batchFriendlyID(),
			IdempotencyKey: idempotencyKey,
			ShowActions:    true,
		},
		Context:          opts.TraceContext,
		SpanParentAsLink: opts.SpanParentAsLink,
		ParentAsLinkType: opts.ParentAsLinkType,
	}

	var result *TaskRun

	err := s.traceEvents.TraceEvent(ctx, taskID, traceOpts, func(ctx context.Context, traceContext TraceEventContext, traceparent *Traceparent) error {
		counterKey := RunCounterKey(uuidString(env.ID), taskID)

		return s.counter.IncrementInTransaction(ctx, counterKey,
			func(ctx context.Context, num int32, tx pgx.Tx) error {
				repo := s.repo
				if tx != nil {
					repo = s.repo.WithTx(tx)
				}

				lockedToVersionID, err := s.resolveLockedVersion(ctx, repo, env, body.Options.LockToVersion)
				if err != nil {
					return err
				}

				tags := make([]TaskRunTag, 0, len(req.tags))
				for _, name := range req.tags {
					tag, err := repo.UpsertTag(ctx, name, env.ProjectID)
					if err != nil {
						return err
					}
					if tag != nil {
						tags = append(tags, *tag)
					}
				}

				var parentSpanID *string
				if traceparent != nil && opts.ParentAsLinkType != ParentAsLinkTypeReplay {
					spanID := traceparent.SpanID
					parentSpanID = &spanID
				}

				run := s.assembleRun(taskID, env, body, req, deps, runFriendlyID, num,
					payloadPacket, metadataPacket, delayUntil, queueName,
					traceContext, parentSpanID, lockedToVersionID, tags, idempotencyKey)

				created, err := s.engine.Trigger(ctx, run, tx)
				if err != nil {
					return err
				}
				result = created
				return nil
			},
			func(ctx context.Context, tx pgx.Tx) (int32, error) {
				return maxRunNumber(ctx, tx, env.ID, taskID)
			})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// resolveLockedVersion maps a lockToVersion option to a worker id. A missing
// match is non-fatal; the run simply stays unlocked.
func (s *service) resolveLockedVersion(ctx context.Context, repo Repository, env *RuntimeEnvironment, version string) (*pgtype.UUID, error) {
	if version == "" {
		return nil, nil
	}
	worker, err := repo.FindWorkerByVersion(ctx, env.ProjectID, env.ID, version)
	if err != nil {
		return nil, err
	}
	if worker == nil {
		s.logger.Warn("lockToVersion matched no worker", "version", version)
		return nil, nil
	}
	return &worker.ID, nil
}

func (s *service) assembleRun(
	taskID string,
	env *RuntimeEnvironment,
	body *TriggerTaskRequestBody,
	req *normalizedRequest,
	deps *resolvedDependencies,
	runFriendlyID string,
	num int32,
	payloadPacket IOPacket,
	metadataPacket *IOPacket,
	delayUntil *time.Time,
	queueName string,
	traceContext TraceEventContext,
	parentSpanID *string,
	lockedToVersionID *pgtype.UUID,
	tags []TaskRunTag,
	idempotencyKey *string,
) *TaskRun {
	status := TaskRunStatusPending
	var queuedAt *time.Time
	if delayUntil != nil {
		status = TaskRunStatusDelayed
	} else {
		now := time.Now()
		queuedAt = &now
	}

	var concurrencyKey *string
	if body.Options.ConcurrencyKey != "" {
		concurrencyKey = &body.Options.ConcurrencyKey
	}

	var queueConcurrencyLimit *int
	if body.Options.Queue != nil {
		queueConcurrencyLimit = body.Options.Queue.ConcurrencyLimit
	}

	var maxAttempts *int
	if body.Options.MaxAttempts > 0 {
		maxAttempts = &body.Options.MaxAttempts
	}

	var contextBytes []byte
	if body.Context != nil {
		contextBytes, _ = json.Marshal(body.Context)
	}

	var metadata *string
	metadataType := req.metadataType
	if metadataPacket != nil {
		metadata = &metadataPacket.Data
		metadataType = metadataPacket.DataType
	}

	var parentTaskRunID, rootTaskRunID *pgtype.UUID
	if deps.parentAttempt != nil && deps.parentAttempt.TaskRun != nil {
		parent := deps.parentAttempt.TaskRun
		parentTaskRunID = &parent.ID
		if parent.RootTaskRunID != nil {
			rootTaskRunID = parent.RootTaskRunID
		} else {
			rootTaskRunID = &parent.ID
		}
	}

	return &TaskRun{
		FriendlyID:               runFriendlyID,
		Number:                   num,
		EnvironmentID:            env.ID,
		ProjectID:                env.ProjectID,
		OrganizationID:           env.OrganizationID,
		TaskIdentifier:           taskID,
		IdempotencyKey:           idempotencyKey,
		Status:                   status,
		QueueName:                queueName,
		MasterQueue:              MasterQueue,
		Payload:                  payloadPacket.Data,
		PayloadType:              payloadPacket.DataType,
		Metadata:                 metadata,
		MetadataType:             metadataType,
		Context:                  contextBytes,
		TraceID:                  traceContext.TraceID,
		SpanID:                   traceContext.SpanID,
		ParentSpanID:             parentSpanID,
		ConcurrencyKey:           concurrencyKey,
		QueueConcurrencyLimit:    queueConcurrencyLimit,
		DelayUntil:               delayUntil,
		QueuedAt:                 queuedAt,
		TTL:                      req.ttl,
		MaxAttempts:              maxAttempts,
		Tags:                     tags,
		Depth:                    deps.depth(),
		ParentTaskRunID:          parentTaskRunID,
		RootTaskRunID:            rootTaskRunID,
		BatchID:                  deps.batchID(),
		ResumeParentOnCompletion: deps.resumeParentOnCompletion(),
		LockedToVersionID:        lockedToVersionID,
		IsTest:                   req.isTest,
		SeedMetadata:             metadata,
		SeedMetadataType:         metadataType,
	}
}

// maxRunNumber seeds a fresh counter from the highest committed run number,
// so counters created after runs already exist stay monotonic.
func maxRunNumber(ctx context.Context, tx pgx.Tx, environmentID pgtype.UUID, taskIdentifier string) (int32, error) {
	if tx == nil {
		return 0, nil
	}
	var highest int32
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) FROM task_runs
		 WHERE environment_id = $1 AND task_identifier = $2`,
		environmentID, taskIdentifier).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("failed to derive initial run number: %w", err)
	}
	return highest, nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}
