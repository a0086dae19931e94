// Package ralph implements the worker side of coddy: it takes confirmed
// issues off the queue and drives an AI agent through a bounded
// implementation loop until it produces a pull request, asks a question or
// runs out of iterations.
//
// # Basic Usage
//
//	worker := &ralph.Worker{
//	    Picker:     &ralph.Picker{Store: s, Clock: clk},
//	    Controller: &ralph.Controller{Store: s, Platform: gh, Agent: a, Git: g, Clock: clk},
//	}
//	err := worker.Run(ctx)
//
// Controller.Run can also be called directly for a single in_progress
// record, which is what the tests do.
//
// # Progress
//
// The worker writes its current state to a JSON status file that
// `coddy status` reads; see StatusWriter.
package ralph
