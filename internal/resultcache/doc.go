// Package resultcache keeps the rows of completed query runs on disk so that
// `cw query history show --results` can print them without contacting the
// remote service again.
package resultcache
