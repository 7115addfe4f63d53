// ABOUTME: Data types returned by the Stampchain API and the query parameters it accepts.
// ABOUTME: Covers Bitcoin stamps, stamp collections, and SRC-20 tokens.

package stampchain

import (
	"net/url"
	"strconv"
)

// Stamp is a single Bitcoin stamp.
type Stamp struct {
	Stamp         int64   `json:"stamp"`
	BlockIndex    int64   `json:"block_index"`
	CPID          string  `json:"cpid"`
	Creator       string  `json:"creator"`
	CreatorName   string  `json:"creator_name,omitempty"`
	Divisible     bool    `json:"divisible"`
	Keyburn       *int    `json:"keyburn,omitempty"`
	Locked        bool    `json:"locked"`
	Supply        int64   `json:"supply"`
	StampURL      string  `json:"stamp_url"`
	StampMimetype string  `json:"stamp_mimetype"`
	TxHash        string  `json:"tx_hash"`
	BlockTime     string  `json:"block_time"`
	Ident         string  `json:"ident"`
	FloorPrice    float64 `json:"floorPrice,omitempty"`
}

// Collection groups related stamps.
type Collection struct {
	CollectionID          string   `json:"collection_id"`
	CollectionName        string   `json:"collection_name"`
	CollectionDescription string   `json:"collection_description,omitempty"`
	Creators              []string `json:"creators"`
	StampCount            int      `json:"stamp_count"`
	TotalEditions         int64    `json:"total_editions"`
	Stamps                []int64  `json:"stamps,omitempty"`
}

// Token is an SRC-20 token deployment.
type Token struct {
	Tick          string  `json:"tick"`
	Max           string  `json:"max"`
	Lim           string  `json:"lim"`
	Deci          int     `json:"deci"`
	Creator       string  `json:"creator"`
	TxHash        string  `json:"tx_hash"`
	BlockIndex    int64   `json:"block_index"`
	BlockTime     string  `json:"block_time"`
	Holders       int64   `json:"holders,omitempty"`
	MintedPercent float64 `json:"progress,omitempty"`
}

// Page is the envelope around list endpoints.
type Page[T any] struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
	Total      int64 `json:"total"`
	Data       []T   `json:"data"`
}

type single[T any] struct {
	LastBlock int64 `json:"last_block,omitempty"`
	Data      T     `json:"data"`
}

// SortOrder controls list ordering.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// StampQuery filters /stamps.
type StampQuery struct {
	Page         int
	Limit        int
	Creator      string
	CollectionID string
	Ident        string
	Sort         SortOrder
}

func (q StampQuery) values() url.Values {
	v := pagination(q.Page, q.Limit, q.Sort)
	setIf(v, "creator", q.Creator)
	setIf(v, "collectionId", q.CollectionID)
	setIf(v, "ident", q.Ident)
	return v
}

// CollectionQuery filters /collections.
type CollectionQuery struct {
	Page    int
	Limit   int
	Creator string
	Sort    SortOrder
}

func (q CollectionQuery) values() url.Values {
	v := pagination(q.Page, q.Limit, q.Sort)
	setIf(v, "creator", q.Creator)
	return v
}

// TokenQuery filters /src20.
type TokenQuery struct {
	Page     int
	Limit    int
	Deployer string
	Sort     SortOrder
}

func (q TokenQuery) values() url.Values {
	v := pagination(q.Page, q.Limit, q.Sort)
	setIf(v, "deployer", q.Deployer)
	return v
}

func pagination(page, limit int, sort SortOrder) url.Values {
	v := url.Values{}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	setIf(v, "sort", string(sort))
	return v
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
