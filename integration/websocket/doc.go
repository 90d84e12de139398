// Package websocket streams broadcast channels to remote observers.
//
//	mux.Handle("GET /ws", websocket.NewHandler(hub.Channels(), websocket.WithAllowAnyOrigin()))
//
// Clients connect to /ws?channel=<name> (latest, shared, state, flow, queue;
// state by default) and receive one JSON frame per value:
//
//	{"channel":"state","data":{...}}
//
// Sending the text message "pause" unschedules the client as a consumer and
// "resume" schedules it again. On conflate and replay channels values
// published meanwhile are dropped; on flow the publisher waits for the client
// and on queue values stay queued.
package websocket
