// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AegiAI/aegi-core/pkg/contracts"
	"github.com/AegiAI/aegi-core/services/orchestrator/datatypes"
	"github.com/AegiAI/aegi-core/services/orchestrator/middleware"
)

// CreateSubscription registers a standing interest in bus events.
// Interest text is embedded at write time so the push engine's
// semantic match never embeds on the hot path.
func CreateSubscription(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubscriptionCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		now := time.Now()
		sub := &contracts.Subscription{
			UID:               contracts.NewUID(contracts.PrefixSubscription),
			UserID:            req.UserID,
			Type:              contracts.SubscriptionType(req.Type),
			Target:            req.Target,
			PriorityThreshold: req.PriorityThreshold,
			EventTypes:        req.EventTypes,
			InterestText:      req.InterestText,
			Enabled:           true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if sub.PriorityThreshold == "" {
			sub.PriorityThreshold = "info"
		}
		embedInterest(c, deps, sub)
		if err := deps.Store.CreateSubscription(c.Request.Context(), sub); err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusCreated, sub)
	}
}

// ListSubscriptions lists a user's subscriptions. Without an explicit
// user_id query the authenticated user is assumed.
func ListSubscriptions(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			userID = middleware.GetUserID(c)
		}
		subs, err := deps.Store.ListSubscriptionsByUser(c.Request.Context(), userID)
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
	}
}

// GetSubscription returns one subscription.
func GetSubscription(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := deps.Store.GetSubscription(c.Request.Context(), c.Param("uid"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

// PatchSubscription updates the mutable fields; absent fields stay
// unchanged. Changing the interest text re-embeds it.
func PatchSubscription(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubscriptionPatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, deps, err)
			return
		}
		ctx := c.Request.Context()
		sub, err := deps.Store.GetSubscription(ctx, c.Param("uid"))
		if err != nil {
			writeError(c, deps, err)
			return
		}
		if req.Target != nil {
			sub.Target = *req.Target
		}
		if req.PriorityThreshold != nil {
			sub.PriorityThreshold = *req.PriorityThreshold
		}
		if req.EventTypes != nil {
			sub.EventTypes = *req.EventTypes
		}
		if req.Enabled != nil {
			sub.Enabled = *req.Enabled
		}
		if req.InterestText != nil && *req.InterestText != sub.InterestText {
			sub.InterestText = *req.InterestText
			sub.InterestVector = nil
			embedInterest(c, deps, sub)
		}
		sub.UpdatedAt = time.Now()
		if err := deps.Store.UpdateSubscription(ctx, sub); err != nil {
			writeError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

// DeleteSubscription removes a subscription.
func DeleteSubscription(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Store.DeleteSubscription(c.Request.Context(), c.Param("uid")); err != nil {
			writeError(c, deps, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// embedInterest computes the semantic-match vector. A degraded
// embedder leaves the subscription rule-match only.
func embedInterest(c *gin.Context, deps *Deps, sub *contracts.Subscription) {
	if sub.InterestText == "" {
		return
	}
	if vec, deg := deps.LLM.Embed(c.Request.Context(), sub.InterestText); deg == nil {
		sub.InterestVector = vec
	} else {
		deps.Logger.Warn("subscription interest embedding degraded",
			"subscription_uid", sub.UID, "reason", deg.Reason)
	}
}
