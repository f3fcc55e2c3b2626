// Package otp holds the domain types shared by the detector, the coordinator and
// presenters: detection events, stored entries, the settings record, and the
// strict code validation every component agrees on.
package otp
