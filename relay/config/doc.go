// Package config provides the space catalog for the relay.
//
// The config package handles:
//   - Loading space definitions from JSON or YAML files
//   - Space definition validation
//   - The default definition used for spaces without a file
//   - Resolving the avatar model URL announced in Spawn events
//
// Configuration Format:
//
// Space definitions live as one file per space in the config directory
// (.json, .yaml or .yml). Each definition names its space by UUID:
//
//	space_id: 2f3b1892-6d5b-4118-a1f1-0f5d9d6a3abc
//	name: Lobby
//	model_url: https://assets.example.com/avatars/default.glb
//	models:
//	  alice: https://assets.example.com/avatars/alice.glb
//
// A file named default.json or default.yaml carries no space_id and supplies
// the fallback model URL for every space that has no definition of its own.
//
// The catalog never gates admission: a client may join any well-formed
// space ID whether or not a definition exists for it.
//
// Usage:
//
//	manager, err := config.NewManager("spaces")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	url := manager.ModelURL(spaceID, "alice")
package config
