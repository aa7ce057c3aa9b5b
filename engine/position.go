package engine

import (
	"time"

	"github.com/elly-po/copiAlpha-sub000/models"
)

// ApplyBuy folds a filled buy into the position, recomputing the
// volume-weighted average entry price. A nil position opens a new one
// attributed to alphaWallet.
func ApplyBuy(pos *models.Position, userID int64, tokenMint, alphaWallet string, amount, price float64) models.Position {
	now := time.Now()

	if pos == nil || !pos.Open {
		return models.Position{
			UserID:        userID,
			TokenMint:     tokenMint,
			TotalAmount:   amount,
			AvgEntryPrice: price,
			AlphaWallet:   alphaWallet,
			Open:          amount > models.DustEpsilon,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	updated := *pos
	newTotal := pos.TotalAmount + amount
	if newTotal > 0 {
		updated.AvgEntryPrice = (pos.TotalAmount*pos.AvgEntryPrice + amount*price) / newTotal
	}
	updated.TotalAmount = newTotal
	updated.Open = newTotal > models.DustEpsilon
	updated.UpdatedAt = now
	return updated
}

// ApplySell reduces the position by the sold amount, closing it when the
// remainder falls under the dust epsilon. The average entry price is
// untouched; realized pnl is derivable from the trade log.
func ApplySell(pos models.Position, amount float64) models.Position {
	now := time.Now()

	updated := pos
	updated.TotalAmount = pos.TotalAmount - amount
	if updated.TotalAmount < 0 {
		updated.TotalAmount = 0
	}
	updated.UpdatedAt = now

	if updated.TotalAmount <= models.DustEpsilon {
		updated.TotalAmount = 0
		updated.Open = false
		updated.ClosedAt = &now
	}
	return updated
}

// PnlPercent returns the unrealized profit of a position at currentPrice,
// as a percentage of the entry price.
func PnlPercent(pos models.Position, currentPrice float64) float64 {
	if pos.AvgEntryPrice == 0 {
		return 0
	}
	return (currentPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
}
