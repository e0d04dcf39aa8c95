package domain

// BoardColumn 看板上的一列：一个邮箱及其当前物品
type BoardColumn struct {
	Mailbox Mailbox    `json:"mailbox"`
	Limits  PlanLimits `json:"limits"`
	Items   []MailItem `json:"items"`
}

// BoardSnapshot 账户下全部邮箱的看板快照
type BoardSnapshot struct {
	AccountID string        `json:"accountId"`
	Columns   []BoardColumn `json:"columns"`
}
