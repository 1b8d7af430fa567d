// Package strategy classifies intercepted GET requests and serves them with one
// of four fetch strategies:
//
//	static assets  -> CacheFirst
//	API calls      -> NetworkFirstCache
//	navigations    -> StaleWhileRevalidate
//	everything else-> NetworkOnly
//
// Classification is a pure function over Rules so it can be tested without any
// network or cache. Strategies never fail: every path ends in a network
// response, a cached snapshot or a synthetic offline response. Cache writes and
// background revalidation are best-effort jobs tracked by Background; callers
// never wait for them.
package strategy
