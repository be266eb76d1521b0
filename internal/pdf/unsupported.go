package pdf

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 提供範囲外の操作。入力を一切処理せず、中途半端な変換を試みないことで
// サービスの保証範囲を明確にします。
var unsupportedOperations = map[string]string{
	"office": "Office文書の変換には対応していません。",
	"pdfa":   "PDF/A変換には対応していません。",
	"scan":   "スキャン取り込みには対応していません。",
}

// UnsupportedHandler は未対応操作向けのハンドラーを返します。
// ワークスペースを作成せず、常に NOT_SUPPORTED を返します。
func UnsupportedHandler(operation string) gin.HandlerFunc {
	message, ok := unsupportedOperations[operation]
	if !ok {
		message = "この操作には対応していません。"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusNotImplemented, gin.H{
			"code":    "NOT_SUPPORTED",
			"message": message,
		})
	}
}
