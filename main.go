// The nexus-ledger command indexes balances, identities and contract
// events from a substrate block stream.
package main

import (
	"github.com/oasisprotocol/nexus-ledger/cmd"
)

func main() {
	cmd.Execute()
}
