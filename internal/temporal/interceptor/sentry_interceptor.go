package interceptor

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
)

// SentryInterceptor reports failed activities to sentry and wraps each
// activity in a span
type SentryInterceptor struct {
	interceptor.WorkerInterceptorBase
	enabled bool
}

func NewSentryInterceptor(enabled bool) *SentryInterceptor {
	return &SentryInterceptor{enabled: enabled}
}

func (s *SentryInterceptor) InterceptActivity(ctx context.Context, next interceptor.ActivityInboundInterceptor) interceptor.ActivityInboundInterceptor {
	i := &activityInboundInterceptor{enabled: s.enabled}
	i.Next = next
	return i
}

type activityInboundInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	enabled bool
}

func (a *activityInboundInterceptor) ExecuteActivity(ctx context.Context, in *interceptor.ExecuteActivityInput) (interface{}, error) {
	if !a.enabled {
		return a.Next.ExecuteActivity(ctx, in)
	}

	info := activity.GetInfo(ctx)
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetTags(map[string]string{
		"activity_type": info.ActivityType.Name,
		"workflow_type": info.WorkflowType.Name,
		"workflow_id":   info.WorkflowExecution.ID,
		"task_queue":    info.TaskQueue,
	})
	ctx = sentry.SetHubOnContext(ctx, hub)

	span := sentry.StartSpan(ctx, "temporal.activity."+info.ActivityType.Name)
	span.SetData("attempt", info.Attempt)
	span.SetData("run_id", info.WorkflowExecution.RunID)

	result, err := a.Next.ExecuteActivity(span.Context(), in)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("error", err.Error())
		hub.CaptureException(fmt.Errorf("temporal activity failed: %s: %w", info.ActivityType.Name, err))
	} else {
		span.Status = sentry.SpanStatusOK
	}
	span.Finish()

	return result, err
}
