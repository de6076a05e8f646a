// Package agentloop runs a language model in a loop with tools.
//
// A Runtime sends the conversation and the registered tool definitions to an
// LLMClient. When the model asks for tools, the Dispatcher validates each
// call's arguments against the tool's input schema, runs the calls
// concurrently, and appends one message of results in request order. The
// loop ends when the model answers without requesting tools, or fails once
// the model keeps requesting tools past Config.MaxIterations.
//
// # Architecture
//
//   - Runtime: the state machine behind Run and RunStream. It owns the
//     History, a WorkerPool and an optional EventEmitter.
//   - Registry: named tools in registration order, schema export in the
//     Anthropic, OpenAI and Gemini dialects, and Setup/Teardown lifecycle.
//   - Dispatcher: bounded-parallel execution with per-call timeout, panic
//     recovery and output validation. Blocking tools go to the WorkerPool.
//   - ToolContext: per-run key/value store shared by tools. Only a summary of
//     its contents is shown to the model.
//   - History: the append-only conversation log.
//
// Tool failures never end a run. They are returned to the model as result
// content marked recoverable or not, and the model decides how to proceed.
// Only client errors that survived the client's retries, and
// *MaxIterationsExceeded, are returned to the caller.
//
// # Quick Start
//
//	reg := agentloop.NewRegistry()
//	reg.MustRegister(agentloop.AddTool(), agentloop.MultiplyTool())
//
//	rt, err := agentloop.New(client, reg, agentloop.WithProvider("anthropic"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	answer, err := rt.Run(ctx, "What is 3 + 5?")
//
// Streaming yields text as it arrives:
//
//	for delta, err := range rt.RunStream(ctx, "What is 3 + 5?") {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Print(delta)
//	}
package agentloop
