// Command taskworker is the worker process spawned by the executor for
// each task. It is invoked as:
//
//	taskworker <arguments-file-path>
//
// and never runs more than one task before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"taskexec/internal/log"
	"taskexec/internal/taskexec/callable"
	"taskexec/internal/taskexec/instrument"
	"taskexec/internal/taskexec/protocol"
	"taskexec/internal/taskexec/workerentry"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: taskworker <arguments-file-path>")
		os.Exit(1)
	}

	resolver := callable.NewResolver(10 * time.Minute)
	registry := instrument.NewRegistry()

	workerentry.Run(context.Background(), os.Args[1], registry, resolver, buildContext)
}

// buildContext reconstructs a task's execution context from its serialized
// blob. Resolving a context class to a concrete loader is the
// plugin/modeling-language layer's job (out of scope here); this default
// treats the blob's state map as the context directly and serves reads
// from the same map, since a task's context commonly embeds the entities
// it was handed at submission time.
func buildContext(blob protocol.ContextBlob) (map[string]any, instrument.Loader, error) {
	loader := instrument.LoaderFunc(func(model, entityID string) (map[string]any, bool) {
		entities, ok := blob.Context[model].(map[string]any)
		if !ok {
			return nil, false
		}
		fields, ok := entities[entityID].(map[string]any)
		return fields, ok
	})

	log.Debug(log.CatWorker, "reconstructed context", "context_cls", blob.ContextClass)
	return blob.Context, loader, nil
}
