/*
Copyright 2025 Veil Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package veil

import "errors"

// Sentinel errors of the reveal protocol. The API layer maps these to
// HTTP statuses; everything else surfaces as an internal error.
var (
	ErrExhibitionNotFound    = errors.New("exhibition not found")
	ErrNotAuthorized         = errors.New("caller is not authorized for this operation")
	ErrRequestAlreadyPending = errors.New("a reveal request is already pending for this exhibition")
	ErrNoParticipants        = errors.New("exhibition has no participants to reveal")
	ErrAlreadyFinalized      = errors.New("reveal request has already been finalized")
	ErrNoRequest             = errors.New("no reveal request exists for this exhibition")
	ErrAlreadyClaimed        = errors.New("refund has already been claimed for this request")
	ErrNotEligible           = errors.New("reveal request is not eligible for a refund")
	ErrWindowExpired         = errors.New("refund window has expired")
	ErrNotTimedOut           = errors.New("reveal request has not timed out")
	ErrStatisticNotFound     = errors.New("no revealed statistic exists for this exhibition")
)
