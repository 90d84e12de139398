// Package response builds HTTP responses as values.
//
// A Response is a render function; Handle turns a function returning one
// into an http.Handler:
//
//	mux.Handle("GET /state", response.Handle(func(*http.Request) response.Response {
//		return response.JSON(app.Current())
//	}))
//
// Returning an HTTPError from a render, or rendering one with Error,
// produces a JSON body of the form {"code": "...", "message": "..."}.
package response
