package common

import (
	"io"

	"github.com/oasisprotocol/nexus-ledger/log"
)

// CloseOrLog closes c, logging (rather than returning) any error.
func CloseOrLog(c io.Closer, logger *log.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "err", err)
	}
}
