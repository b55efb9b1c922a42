/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

// Package loop schedules the discover -> probe -> publish pipeline.
//
// # State machine
//
// The loop moves between Stopped, Running(idle), Running(ticking) and
// Running(backoff). Start runs one tick immediately and then follows the
// configured interval. A failed tick enters exponential backoff
// (retryDelay * 2^(n-1)) up to MaxRetries consecutive attempts; after that
// the failure is abandoned and the regular cadence resumes, so a persistently
// broken dependency degrades the gateway to a stale-but-served configuration
// instead of a retry storm.
//
// # Concurrency
//
// The loop is a single logical worker. Exactly one pending timer exists at a
// time: every scheduling path (successor tick, retry, forced run,
// reconfiguration) cancels the previous timer before arming a new one, and
// tick execution is serialized, so ticks never overlap and configuration
// updates apply strictly in tick order. Stop cancels the pending timer and
// the loop context; in-flight probe I/O observes the cancellation through
// its request context rather than being preempted.
//
// Loop failures never escape to the hosting process. Only configuration
// errors (rejected Options) surface synchronously, at construction and
// UpdateConfig time.
package loop
