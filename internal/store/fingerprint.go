package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fingerprint hashes all mutable state (accounts, storage slots,
// impersonations and the block counter) in a deterministic order.
// Equal fingerprints mean the observable state is identical.
func (s state) Fingerprint(ctx context.Context) (common.Hash, error) {
	var buf bytes.Buffer

	sections := []struct {
		tag   string
		query string
		cols  int
	}{
		{"accounts", `SELECT address, balance, CAST(nonce AS TEXT) FROM accounts ORDER BY address ASC`, 3},
		{"slots", `SELECT contract, slot, value FROM storage_slots ORDER BY contract ASC, slot ASC`, 3},
		{"impersonations", `SELECT address, token FROM impersonations ORDER BY address ASC`, 2},
	}

	for _, sec := range sections {
		if err := writeSection(ctx, s.q, &buf, sec.tag, sec.query, sec.cols); err != nil {
			return common.Hash{}, fmt.Errorf("fingerprint %s: %w", sec.tag, err)
		}
	}

	block, err := s.BlockNumber(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fingerprint: %w", err)
	}
	buf.WriteString("block")
	binary.Write(&buf, binary.BigEndian, block)

	return crypto.Keccak256Hash(buf.Bytes()), nil
}

// writeSection appends length-prefixed column values of every row so that
// distinct row sets can never serialize to the same bytes.
func writeSection(ctx context.Context, q querier, buf *bytes.Buffer, tag, query string, cols int) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	buf.WriteString(tag)
	values := make([]string, cols)
	ptrs := make([]any, cols)
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for _, v := range values {
			binary.Write(buf, binary.BigEndian, uint32(len(v)))
			buf.WriteString(v)
		}
	}
	return rows.Err()
}
