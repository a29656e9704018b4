// Package webhook はIdPからの署名付きイベント配信の検証と正規化を提供する。
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/membergate/internal/model"
)

// secretPrefix は署名シークレットに付与される既知のプレフィックス。
const secretPrefix = "whsec_"

// signatureVersion は署名値のバージョンプレフィックス。
const signatureVersion = "v1"

// Verifier はWebhook配信のHMAC署名を検証する。
// 署名ベース文字列は `{id}.{timestamp}.{body}`、シークレットはプレフィックスを
// 除去したbase64、署名値はbase64エンコードされたHMAC-SHA256。
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier はVerifierを生成する。
// secretは "whsec_" プレフィックス付きのbase64シークレット。
// toleranceはタイムスタンプの許容ずれ幅（前後両方向）。
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, model.NewSigningSecretMissingError()
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing secret: %w", err)
	}

	return &Verifier{
		secret:    decoded,
		tolerance: tolerance,
		now:       time.Now,
	}, nil
}

// Verify は配信の署名ヘッダーを検証する。
// signatureHeaderはスペース区切りの複数署名値を受け付け（シークレットローテーション対応）、
// いずれか1つが一致すれば成功とする。比較は一定時間比較で行う。
func (v *Verifier) Verify(body []byte, id, timestamp, signatureHeader string) error {
	if id == "" || timestamp == "" || signatureHeader == "" {
		return model.NewMissingSignatureHeadersError()
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return model.NewTimestampOutOfRangeError()
	}

	diff := v.now().Sub(time.Unix(ts, 0))
	if diff > v.tolerance || diff < -v.tolerance {
		return model.NewTimestampOutOfRangeError()
	}

	expected := v.sign(id, timestamp, body)

	for _, candidate := range strings.Fields(signatureHeader) {
		// "v1,<base64>" 形式。バージョン部が異なる署名は無視する。
		version, sig, found := strings.Cut(candidate, ",")
		if !found || version != signatureVersion {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return model.NewSignatureInvalidError()
}

// Sign はid・タイムスタンプ・ボディに対する署名値（base64部のみ）を計算する。
// テストおよび再送検証用。
func (v *Verifier) Sign(id, timestamp string, body []byte) string {
	return v.sign(id, timestamp, body)
}

func (v *Verifier) sign(id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
