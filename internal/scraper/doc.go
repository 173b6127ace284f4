// Package scraper defines the core types and collaborator interfaces shared by
// the page queue, result sink, workers, and the pool driver.
package scraper
