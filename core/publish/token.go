package publish

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrBadToken = errors.New("bad retraction token")

const (
	tokenVersion = 1
	tagSize      = 8
	objectIDSize = 12
)

const (
	fieldVersion   protowire.Number = 1
	fieldListingID protowire.Number = 2
	fieldPublicMsg protowire.Number = 3
)

// Token travels in the retract button's callback data. It identifies the
// listing and, when the public copy was posted, its message id.
type Token struct {
	ListingID       string
	PublicMessageID int
}

// TokenCodec signs tokens so that callback data can't be forged to retract
// someone else's listing. The encoded form stays well under Telegram's
// 64 byte callback data limit.
type TokenCodec struct {
	key []byte
}

func NewTokenCodec(secret string) TokenCodec {
	return TokenCodec{key: []byte(secret)}
}

func (c TokenCodec) Encode(t Token) (string, error) {
	id, err := hex.DecodeString(t.ListingID)
	if err != nil || len(id) != objectIDSize {
		return "", fmt.Errorf("listing id %q is not an object id", t.ListingID)
	}

	b := make([]byte, 0, 32)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, tokenVersion)
	b = protowire.AppendTag(b, fieldListingID, protowire.BytesType)
	b = protowire.AppendBytes(b, id)
	if t.PublicMessageID > 0 {
		b = protowire.AppendTag(b, fieldPublicMsg, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.PublicMessageID))
	}
	b = append(b, c.sign(b)...)

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c TokenCodec) Decode(s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) <= tagSize {
		return Token{}, ErrBadToken
	}

	payload, tag := raw[:len(raw)-tagSize], raw[len(raw)-tagSize:]
	if !hmac.Equal(tag, c.sign(payload)) {
		return Token{}, ErrBadToken
	}

	var (
		t       Token
		version uint64
	)
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return Token{}, ErrBadToken
		}
		payload = payload[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(payload)
		case num == fieldListingID && typ == protowire.BytesType:
			var id []byte
			id, n = protowire.ConsumeBytes(payload)
			if n >= 0 && len(id) != objectIDSize {
				return Token{}, ErrBadToken
			}
			t.ListingID = hex.EncodeToString(id)
		case num == fieldPublicMsg && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(payload)
			if v > math.MaxInt32 {
				return Token{}, ErrBadToken
			}
			t.PublicMessageID = int(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
		}
		if n < 0 {
			return Token{}, ErrBadToken
		}
		payload = payload[n:]
	}

	if version != tokenVersion || t.ListingID == "" {
		return Token{}, ErrBadToken
	}
	return t, nil
}

func (c TokenCodec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil)[:tagSize]
}
