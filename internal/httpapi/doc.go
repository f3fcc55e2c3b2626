// Package httpapi exposes the coordinator over HTTP: the inbound message
// endpoint used by remote detectors, and the presenter endpoints (entry list,
// settings, clear, server-sent list updates).
//
// Routes:
//
//	POST   /v1/messages   {type, otp, url, timestamp, settings, id} -> {success, error?}
//	GET    /v1/entries    -> {entryList}
//	DELETE /v1/entries    clear all
//	GET    /v1/settings   -> settings record
//	PUT    /v1/settings   settings record -> settings record
//	GET    /v1/events     text/event-stream of OTP_LIST_UPDATED
//	GET    /healthz
package httpapi
