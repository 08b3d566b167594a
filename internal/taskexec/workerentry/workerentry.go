// Package workerentry implements the worker process's side of a task
// execution: read its invocation arguments, reconstruct its context,
// install instrumentation, invoke the target callable, and report the
// outcome back to the parent over the wire protocol.
package workerentry

import (
	"context"
	"fmt"
	"runtime/debug"

	"taskexec/internal/log"
	"taskexec/internal/taskexec/callable"
	"taskexec/internal/taskexec/executor"
	"taskexec/internal/taskexec/instrument"
	"taskexec/internal/taskexec/messenger"
	"taskexec/internal/taskexec/protocol"
)

// ContextBuilder reconstructs a task's execution context from its
// serialized blob, returning the state map the callable receives and a
// Loader backing reads of entities the task didn't itself create.
type ContextBuilder func(blob protocol.ContextBlob) (taskCtx map[string]any, loader instrument.Loader, err error)

// Run executes the single task described by the args file at argsPath: it
// is the entire body of the worker process's main function. Run never
// returns an error to its caller — every failure, including a panicking
// callable, is reported to the parent as a failed message — so cmd/taskworker
// only needs to call Run and exit.
func Run(ctx context.Context, argsPath string, registry *instrument.Registry, resolver *callable.Resolver, buildContext ContextBuilder) {
	args, err := executor.ReadArgsFile(argsPath)
	if err != nil {
		// Nothing to report to: without a decoded task id or port there's
		// no address to dial. Surface the failure locally only.
		log.Error(log.CatWorker, "reading args file", "path", argsPath, "error", err.Error())
		return
	}

	msgr := messenger.New(fmt.Sprintf("127.0.0.1:%d", args.Port), args.TaskID)

	taskCtx, loader, err := buildContext(args.Context)
	if err != nil {
		reportErr := msgr.Failed(ctx, nil, nil, protocol.FromError(
			fmt.Errorf("reconstructing execution context: %w", err), ""))
		if reportErr != nil {
			log.Error(log.CatWorker, "reporting context-build failure", "task_id", args.TaskID, "error", reportErr.Error())
		}
		return
	}

	scope := instrument.Enter(registry)
	defer scope.Exit()

	facade := instrument.NewFacade(scope.Sink(), loader)

	if err := msgr.Started(ctx); err != nil {
		log.Error(log.CatWorker, "sending started", "task_id", args.TaskID, "error", err.Error())
		return
	}

	fn, err := resolver.Resolve(ctx, args.Implementation)
	if err != nil {
		changes, newInstances := scope.ChangeSet().Snapshot()
		reportErr := msgr.Failed(ctx, changes, newInstances, protocol.FromError(err, ""))
		if reportErr != nil {
			log.Error(log.CatWorker, "reporting resolve failure", "task_id", args.TaskID, "error", reportErr.Error())
		}
		return
	}

	invoke(ctx, msgr, scope, facade, fn, taskCtx, args.OperationInputs)
}

// invoke calls fn, recovering from any panic so the worker process always
// reports a terminal message rather than crashing silently, then reports
// succeeded or failed with whatever diff the scope accumulated.
func invoke(ctx context.Context, msgr *messenger.Messenger, scope *instrument.Scope, facade *instrument.Facade, fn callable.Func, taskCtx, inputs map[string]any) {
	var callErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("callable panicked: %v\n%s", r, debug.Stack())
			}
		}()
		callErr = fn(ctx, facade, taskCtx, inputs)
	}()

	changes, newInstances := scope.ChangeSet().Snapshot()

	if callErr != nil {
		if err := msgr.Failed(ctx, changes, newInstances, protocol.FromError(callErr, "")); err != nil {
			log.Error(log.CatWorker, "reporting task failure", "error", err.Error())
		}
		return
	}

	if err := msgr.Succeeded(ctx, changes, newInstances); err != nil {
		log.Error(log.CatWorker, "reporting task success", "error", err.Error())
	}
}
