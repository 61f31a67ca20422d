// Package api exposes the generation scheduler over an OpenAI-style
// HTTP surface: synchronous image and video generations, asynchronous
// video task submission and polling, a pool health snapshot, and
// artifact cleanup. Scheduler errors cross this boundary only as their
// typed kinds; the handlers translate them to the error envelope and
// never branch on engine internals.
package api
