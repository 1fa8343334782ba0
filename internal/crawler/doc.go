// Package crawler defines the crawl domain: article sources, page
// references, fetch requests and responses, and the politeness machinery
// the worker pool is assembled from.
package crawler
