package apns

// Reason is the server reported cause of a rejected notification. Reasons APNs
// adds in the future map to ReasonUnknown; the raw string is preserved on the
// Failure.
type Reason uint8

const (
	ReasonUnknown Reason = iota

	// 400
	ReasonBadCollapseID
	ReasonBadDeviceToken
	ReasonBadExpirationDate
	ReasonBadMessageID
	ReasonBadPriority
	ReasonBadTopic
	ReasonDeviceTokenNotForTopic
	ReasonDuplicateHeaders
	ReasonIdleTimeout
	ReasonInvalidPushType
	ReasonMissingDeviceToken
	ReasonMissingTopic
	ReasonPayloadEmpty
	ReasonTopicDisallowed

	// 403
	ReasonBadCertificate
	ReasonBadCertificateEnvironment
	ReasonExpiredProviderToken
	ReasonForbidden
	ReasonInvalidProviderToken
	ReasonMissingProviderToken

	// 404, 405
	ReasonBadPath
	ReasonMethodNotAllowed

	// 410
	ReasonExpiredToken
	ReasonUnregistered

	// 413
	ReasonPayloadTooLarge

	// 429
	ReasonTooManyProviderTokenUpdates
	ReasonTooManyRequests

	// 500, 503
	ReasonInternalServerError
	ReasonServiceUnavailable
	ReasonShutdown
)

var reasonNames = map[Reason]string{
	ReasonBadCollapseID:               "BadCollapseId",
	ReasonBadDeviceToken:              "BadDeviceToken",
	ReasonBadExpirationDate:           "BadExpirationDate",
	ReasonBadMessageID:                "BadMessageId",
	ReasonBadPriority:                 "BadPriority",
	ReasonBadTopic:                    "BadTopic",
	ReasonDeviceTokenNotForTopic:      "DeviceTokenNotForTopic",
	ReasonDuplicateHeaders:            "DuplicateHeaders",
	ReasonIdleTimeout:                 "IdleTimeout",
	ReasonInvalidPushType:             "InvalidPushType",
	ReasonMissingDeviceToken:          "MissingDeviceToken",
	ReasonMissingTopic:                "MissingTopic",
	ReasonPayloadEmpty:                "PayloadEmpty",
	ReasonTopicDisallowed:             "TopicDisallowed",
	ReasonBadCertificate:              "BadCertificate",
	ReasonBadCertificateEnvironment:   "BadCertificateEnvironment",
	ReasonExpiredProviderToken:        "ExpiredProviderToken",
	ReasonForbidden:                   "Forbidden",
	ReasonInvalidProviderToken:        "InvalidProviderToken",
	ReasonMissingProviderToken:        "MissingProviderToken",
	ReasonBadPath:                     "BadPath",
	ReasonMethodNotAllowed:            "MethodNotAllowed",
	ReasonExpiredToken:                "ExpiredToken",
	ReasonUnregistered:                "Unregistered",
	ReasonPayloadTooLarge:             "PayloadTooLarge",
	ReasonTooManyProviderTokenUpdates: "TooManyProviderTokenUpdates",
	ReasonTooManyRequests:             "TooManyRequests",
	ReasonInternalServerError:         "InternalServerError",
	ReasonServiceUnavailable:          "ServiceUnavailable",
	ReasonShutdown:                    "Shutdown",
}

var reasonsByName map[string]Reason

func init() {
	reasonsByName = make(map[string]Reason, len(reasonNames))
	for reason, name := range reasonNames {
		reasonsByName[name] = reason
	}
}

// ParseReason maps the reason string from an APNs error body. It never fails;
// unrecognized strings yield ReasonUnknown.
func ParseReason(s string) Reason {
	if reason, ok := reasonsByName[s]; ok {
		return reason
	}
	return ReasonUnknown
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "Unknown"
}

// Retryable returns whether sending the same notification again may succeed.
// Transient server conditions and provider token problems are retryable; the
// latter after signing a new token.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonIdleTimeout,
		ReasonTooManyRequests,
		ReasonTooManyProviderTokenUpdates,
		ReasonInternalServerError,
		ReasonServiceUnavailable,
		ReasonShutdown,
		ReasonExpiredProviderToken,
		ReasonInvalidProviderToken:
		return true
	}
	return false
}

// IsProviderTokenError returns whether the provider token was rejected.
func (r Reason) IsProviderTokenError() bool {
	return r == ReasonExpiredProviderToken || r == ReasonInvalidProviderToken || r == ReasonMissingProviderToken
}

// DeviceTokenInvalid returns whether the device token should no longer be used
// for this topic.
func (r Reason) DeviceTokenInvalid() bool {
	switch r {
	case ReasonBadDeviceToken,
		ReasonUnregistered,
		ReasonExpiredToken,
		ReasonDeviceTokenNotForTopic:
		return true
	}
	return false
}
