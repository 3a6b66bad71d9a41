package model

// Profile はログイン時点のプロフィールスナップショットを表す。
// プロフィール取得に失敗した場合、DisplayNameはIdentifierに、
// DIDはセッションが報告したDIDにフォールバックする。
type Profile struct {
	Identifier  string
	DisplayName string
	DID         string
}
