// Package blocks manages the simulated chain: block production and the
// validator set.
package blocks

import (
	"context"
	"fmt"
	"strings"

	"github.com/blockscope/explorer/internal/app/domain/block"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

// Service manages blocks and validators.
type Service struct {
	store storage.BlockStore
	log   *logger.Logger
}

// New constructs a block service.
func New(store storage.BlockStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("blocks")
	}
	return &Service{store: store, log: log}
}

// Produce appends a block. Height is assigned by the store as the next in
// sequence; a proposer, when given, must exist and gets its production
// counter bumped in the same unit of work.
func (s *Service) Produce(ctx context.Context, proposerID string, txCount int) (block.Block, error) {
	proposerID = strings.TrimSpace(proposerID)
	if txCount < 0 {
		return block.Block{}, fmt.Errorf("tx_count cannot be negative: %w", storage.ErrInvalidArgument)
	}
	if proposerID != "" {
		if _, err := s.store.GetValidator(ctx, proposerID); err != nil {
			return block.Block{}, fmt.Errorf("proposer: %w", err)
		}
	}
	created, err := s.store.CreateBlock(ctx, block.Block{ProposerID: proposerID, TxCount: txCount})
	if err != nil {
		return block.Block{}, err
	}
	s.log.WithField("height", created.Height).WithField("hash", created.Hash).Info("block produced")
	return created, nil
}

// GetByHeight returns the block at a height.
func (s *Service) GetByHeight(ctx context.Context, height int64) (block.Block, error) {
	return s.store.GetBlockByHeight(ctx, height)
}

// GetByHash returns the block with a hash.
func (s *Service) GetByHash(ctx context.Context, hash string) (block.Block, error) {
	return s.store.GetBlockByHash(ctx, strings.TrimSpace(hash))
}

// List returns blocks newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]block.Block, error) {
	return s.store.ListBlocks(ctx, limit, offset)
}

// Latest returns the most recent block.
func (s *Service) Latest(ctx context.Context) (block.Block, error) {
	return s.store.LatestBlock(ctx)
}

// RegisterValidator adds a validator to the set.
func (s *Service) RegisterValidator(ctx context.Context, name, address string) (block.Validator, error) {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	if name == "" || address == "" {
		return block.Validator{}, fmt.Errorf("name and address are required: %w", storage.ErrInvalidArgument)
	}
	created, err := s.store.CreateValidator(ctx, block.Validator{Name: name, Address: address})
	if err != nil {
		return block.Validator{}, err
	}
	s.log.WithField("validator_id", created.ID).WithField("address", address).Info("validator registered")
	return created, nil
}

// GetValidator returns one validator.
func (s *Service) GetValidator(ctx context.Context, id string) (block.Validator, error) {
	return s.store.GetValidator(ctx, id)
}

// ListValidators returns the validator set.
func (s *Service) ListValidators(ctx context.Context) ([]block.Validator, error) {
	return s.store.ListValidators(ctx)
}

// SetValidatorStatus moves a validator between active, inactive and jailed.
func (s *Service) SetValidatorStatus(ctx context.Context, id, status string) (block.Validator, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !block.ValidStatus(status) {
		return block.Validator{}, fmt.Errorf("unsupported validator status %q: %w", status, storage.ErrInvalidArgument)
	}
	v, err := s.store.GetValidator(ctx, id)
	if err != nil {
		return block.Validator{}, err
	}
	v.Status = status
	updated, err := s.store.UpdateValidator(ctx, v)
	if err != nil {
		return block.Validator{}, err
	}
	s.log.WithField("validator_id", id).WithField("status", status).Info("validator status changed")
	return updated, nil
}
