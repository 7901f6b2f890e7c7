// Package client provides the `spotsync` command-line client.
//
// The CLI searches, publishes and deletes parking spots against the
// configured relays, reports relay health, exposes the geohash helpers and
// the location stabilizer, and can start the reference relay.
//
// Installation
//
//	go install github.com/rzbill/spotsync/cmd/spotsync@latest
//
// # Configuration
//
// Settings are layered: built-in defaults, then the file named by --config
// (or SPOTSYNC_CONFIG), then SPOTSYNC_* variables (a .env file is loaded
// first when present), then flags. The signing key is read from --key or
// SPOTSYNC_SECRET_KEY and the session-log box key from SPOTSYNC_BOX_SECRET.
//
// Usage
//
//	spotsync keygen
//	spotsync relay start --http :7070 --grpc :7071
//
//	spotsync spot publish --relay http://127.0.0.1:7070 \
//	    --lat 48.8566 --lon 2.3522 --price 2.5 --currency EUR --d bay-12
//	spotsync spot delete --d bay-12 --reason "sold out"
//
//	spotsync search --lat 48.8566 --lon 2.3522 --precision 6 --zoom 14
//	spotsync search --lat 48.8566 --lon 2.3522 --wait-verify --json
//
//	spotsync health
//
//	spotsync geohash encode --lat 48.8566 --lon 2.3522 --precision 7
//	spotsync geohash decode u09tvw0
//	spotsync geohash neighbors --lat 48.8566 --lon 2.3522 --precision 5
//
//	# one JSON sample per line: {"lat":..,"lon":..,"ts":<unix ms>,"heading":..,"compass":true}
//	spotsync track < samples.ndjson
//
//	spotsync session add --text "parked at level 2"
//	spotsync session list
package client
