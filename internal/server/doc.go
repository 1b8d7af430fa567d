// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the origin registry that maps browser-facing hosts (the app origin plus
// any configured remote hosts) onto upstream backends. Diagnostics and control
// endpoints live under the /-/ prefix and bypass host lookup; everything else
// is handed to the injected ProxyHandler together with the resolved route.
package server
