// Package cloudwatch implements services.LogService on top of the AWS
// CloudWatch Logs API.
//
// Credentials and region come from the SDK default chain, optionally pinned
// to a named profile. The SDK's own retryer is limited to a single attempt so
// that retries are governed by internal/retry alone. Remote failures are
// translated into the services error markers by Classify.
package cloudwatch
