package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"postal-service/internal/client"
	"postal-service/internal/model"
	"postal-service/internal/util"
)

// ParcelIndex mirrors parcels into Elasticsearch for free-text search. The
// index is a read replica: the ledger stays the source of truth, and a
// missing or stale document only degrades search results.
type ParcelIndex interface {
	Index(ctx context.Context, parcel *model.Parcel) error
	Search(ctx context.Context, query string) ([]*model.Parcel, error)
}

// -------------------- ELASTICSEARCH --------------------

type ESParcelIndex struct {
	es    *client.ESClient
	index string
}

func NewESParcelIndex(esClient *client.ESClient, index string) *ESParcelIndex {
	return &ESParcelIndex{
		es:    esClient,
		index: index,
	}
}

func (i *ESParcelIndex) Index(ctx context.Context, parcel *model.Parcel) error {
	doc := map[string]interface{}{
		"id":                parcel.ID,
		"sender_identifier": parcel.SenderIdentifier,
		"receiver_mobile":   parcel.Receiver.Mobile,
		"receiver_email":    parcel.Receiver.Email,
		"receiver_address":  parcel.Receiver.Address,
		"description":       parcel.Description,
		"weight":            parcel.Weight,
		"status":            parcel.Status,
		"created_at":        parcel.CreatedAt,
		"delivered_at":      parcel.DeliveredAt,
	}

	res, err := i.es.IndexDocument(ctx, i.index, parcel.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to index parcel: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to index parcel: %s", res.Status())
	}

	util.Debug("Parcel indexed", zap.String("parcel_id", parcel.ID))
	return nil
}

func (i *ESParcelIndex) Search(ctx context.Context, query string) ([]*model.Parcel, error) {
	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query": query,
				"fields": []string{
					"id", "sender_identifier", "receiver_mobile",
					"receiver_email", "receiver_address", "description", "status",
				},
			},
		},
		"size": 50,
	}

	res, err := i.es.Search(ctx, i.index, esQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to search parcels: %w", err)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source struct {
					ID               string             `json:"id"`
					SenderIdentifier string             `json:"sender_identifier"`
					ReceiverMobile   string             `json:"receiver_mobile"`
					ReceiverEmail    string             `json:"receiver_email"`
					ReceiverAddress  string             `json:"receiver_address"`
					Description      string             `json:"description"`
					Weight           string             `json:"weight"`
					Status           model.ParcelStatus `json:"status"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := i.es.ParseResponse(res, &result); err != nil {
		return nil, err
	}

	out := make([]*model.Parcel, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		out = append(out, &model.Parcel{
			ID:               hit.Source.ID,
			SenderIdentifier: hit.Source.SenderIdentifier,
			Receiver: model.ReceiverContact{
				Mobile:  hit.Source.ReceiverMobile,
				Email:   hit.Source.ReceiverEmail,
				Address: hit.Source.ReceiverAddress,
			},
			Description: hit.Source.Description,
			Weight:      hit.Source.Weight,
			Status:      hit.Source.Status,
		})
	}
	return out, nil
}

// -------------------- LEDGER SCAN --------------------

// LedgerScanIndex answers searches by scanning the parcel ledger. Used in
// development where no Elasticsearch is available.
type LedgerScanIndex struct {
	ledger model.ParcelLedger
}

func NewLedgerScanIndex(ledger model.ParcelLedger) *LedgerScanIndex {
	return &LedgerScanIndex{ledger: ledger}
}

func (i *LedgerScanIndex) Index(ctx context.Context, parcel *model.Parcel) error {
	return nil
}

func (i *LedgerScanIndex) Search(ctx context.Context, query string) ([]*model.Parcel, error) {
	all, err := i.ledger.ListParcels(ctx, model.ParcelFilter{})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	out := make([]*model.Parcel, 0)
	for _, parcel := range all {
		haystack := strings.ToLower(strings.Join([]string{
			parcel.ID, parcel.SenderIdentifier, parcel.Receiver.Mobile,
			parcel.Receiver.Email, parcel.Receiver.Address,
			parcel.Description, string(parcel.Status),
		}, " "))
		if strings.Contains(haystack, needle) {
			out = append(out, parcel)
		}
	}
	return out, nil
}
