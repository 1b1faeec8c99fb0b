// Package model defines the records peers exchange through the store:
// conversation envelopes and their messages, the published catalog (devices,
// models, endpoints, host state) and remote commands.
//
// Each type converts to and from recordstore.Fields through a JSON codec, so
// field names in the store match the JSON tags declared here.
package model
