package common

// DefaultKeyringService is the service name under which private keys are
// stored in the OS keyring.
const DefaultKeyringService = "nostr-scheduler"

// DefaultRelays is used by the direct channel when neither the account nor
// the configuration lists any relay.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}
