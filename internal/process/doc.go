// Package process owns the single backend child: it spawns it from a launch
// plan, waits for it to become reachable and stops it.
//
// Graceful termination on POSIX signals the child's whole process group, which
// the controller creates at spawn time. On Windows the controller asks taskkill
// to end the process tree without /f; a child that ignores the request keeps
// running and Stop reports a timeout instead of escalating.
package process
