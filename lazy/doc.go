// Package lazy defers image loading for HTML content.
//
// Rich-text markup passes through Extract (collect image URLs) and Rewrite
// (replace live sources with an inert placeholder) before the host injects
// it. A Scheduler warms the image cache during host idle time, a Loader
// promotes placeholders back to real sources as they approach the viewport,
// and ImageView provides the same lifecycle for a single host-rendered
// element. Idle capacity and viewport proximity are injected capabilities
// (IdleSignal, Observer) so the whole pipeline runs under test with
// simulated signals.
package lazy
