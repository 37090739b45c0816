package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Deterministic order identifiers. The same order content submitted on the
// same day always hashes to the same id, so duplicate requests and replays
// collapse onto a single row under the client_order_id uniqueness constraint.

const idPrefix = "ord_"

// DeriveOrderID computes the client order id for a top-level submission.
func DeriveOrderID(symbol, side string, quantity float64, limitPrice *float64, strategyID string, submissionDate time.Time) string {
	price := "MKT"
	if limitPrice != nil {
		price = strconv.FormatFloat(*limitPrice, 'f', 8, 64)
	}
	canonical := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		symbol,
		side,
		strconv.FormatFloat(quantity, 'f', 8, 64),
		price,
		strategyID,
		submissionDate.UTC().Format("2006-01-02"),
	)
	return hashID(canonical)
}

// DeriveChildID computes the id of one TWAP child. The slice index is part of
// the hash so each slice gets its own stable id under retries.
func DeriveChildID(parentOrderID string, sliceIndex int) string {
	return hashID(fmt.Sprintf("%s|slice|%d", parentOrderID, sliceIndex))
}

// DeriveReplacementID computes the id of the successor order created by a
// replace, keyed on the original id and the modification sequence.
func DeriveReplacementID(originalOrderID string, modificationSeq int) string {
	return hashID(fmt.Sprintf("%s|mod|%d", originalOrderID, modificationSeq))
}

func hashID(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return idPrefix + hex.EncodeToString(sum[:])[:32]
}
