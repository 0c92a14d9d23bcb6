package dto

// NotificationListQuery filters the caller's inbox.
type NotificationListQuery struct {
	UnreadOnly bool `form:"unread"`
	Page       int  `form:"page"`
	PageSize   int  `form:"pageSize"`
}
