// Package worker provides the background workers that drive loan workflows
// forward.
//
// Workers consume tasks from a task queue and execute them against a
// workflow engine: start-workflow tasks create and drive a new instance,
// signal tasks deliver human decisions (documents verified, offer accepted,
// disbursement triggered) to a waiting one.
//
// The HTTP facade enqueues tasks and returns immediately; workers are the
// only place application input and signals actually reach the engine.
// Multiple workers can safely operate on the same queue, and with a
// persistent queue backend tasks survive process restarts.
package worker
