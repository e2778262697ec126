// Package api handles incoming HTTP requests for the merge service. Handlers
// parse multipart uploads and query parameters, call service.MergeService and
// render its results as JSON. Errors are mapped to status codes in one place
// (HandleAPIError) so internal details never reach clients.
package api
